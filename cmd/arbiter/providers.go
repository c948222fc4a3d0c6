package main

// Adapter blank imports. Each import activates a self-registering provider
// or notifier factory.

import (
	_ "github.com/Strob0t/arbiter/internal/adapter/claude"
	_ "github.com/Strob0t/arbiter/internal/adapter/discord"
	_ "github.com/Strob0t/arbiter/internal/adapter/email"
	_ "github.com/Strob0t/arbiter/internal/adapter/litellm"
	_ "github.com/Strob0t/arbiter/internal/adapter/slack"
	_ "github.com/Strob0t/arbiter/internal/adapter/static"
	_ "github.com/Strob0t/arbiter/internal/adapter/webhook"
)
