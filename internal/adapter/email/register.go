package email

import (
	"strings"

	"github.com/Strob0t/arbiter/internal/port/notifier"
)

func init() {
	notifier.Register(providerName, func(config map[string]string) (notifier.Notifier, error) {
		cfg := SMTPConfig{
			Host:     config["host"],
			Port:     config["port"],
			Username: config["username"],
			Password: config["password"],
			From:     config["from"],
		}
		for _, to := range strings.Split(config["to"], ",") {
			if to = strings.TrimSpace(to); to != "" {
				cfg.To = append(cfg.To, to)
			}
		}
		if cfg.Host == "" || cfg.From == "" || len(cfg.To) == 0 {
			return nil, notifier.ErrNotConfigured
		}
		return NewNotifier(cfg), nil
	})
}
