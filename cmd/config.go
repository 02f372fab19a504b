package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"

	"jobctl/internal/config"
	"jobctl/internal/repository"

	"github.com/spf13/cobra"
)

func configCmd(cfg *config.Config) *cobra.Command {
	cCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and change the queue's configuration",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}

	setCmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a config key (max_retries, base_backoff, idle_timeout, poll_interval, default_timeout_seconds)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]

			switch key {
			case "max_retries":
				i, err := strconv.Atoi(value)
				if err != nil || i < 0 {
					return fmt.Errorf("%w: max_retries must be a non-negative integer", repository.ErrInvalidSpec)
				}
				cfg.MaxRetries = i
			case "base_backoff":
				f, err := strconv.ParseFloat(value, 64)
				if err != nil || f <= 0 {
					return fmt.Errorf("%w: base_backoff must be a positive number", repository.ErrInvalidSpec)
				}
				cfg.BaseBackoff = f
			case "idle_timeout":
				f, err := strconv.ParseFloat(value, 64)
				if err != nil || f <= 0 {
					return fmt.Errorf("%w: idle_timeout must be a positive number", repository.ErrInvalidSpec)
				}
				cfg.IdleTimeout = f
			case "poll_interval":
				f, err := strconv.ParseFloat(value, 64)
				if err != nil || f <= 0 {
					return fmt.Errorf("%w: poll_interval must be a positive number", repository.ErrInvalidSpec)
				}
				cfg.PollInterval = f
			case "default_timeout_seconds":
				if value == "null" || value == "" {
					cfg.DefaultTimeoutSeconds = nil
				} else {
					f, err := strconv.ParseFloat(value, 64)
					if err != nil || f <= 0 {
						return fmt.Errorf("%w: default_timeout_seconds must be a positive number or null", repository.ErrInvalidSpec)
					}
					cfg.DefaultTimeoutSeconds = &f
				}
			default:
				return fmt.Errorf("%w: unknown config key %q", repository.ErrInvalidSpec, key)
			}

			if err := config.SaveConfig(cfg); err != nil {
				return err
			}
			fmt.Printf("%s = %s\n", key, value)
			return nil
		},
	}

	cCmd.AddCommand(showCmd, setCmd)
	return cCmd
}
