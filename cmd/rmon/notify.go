package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/franz/radio-monitor/internal/notify"
	"github.com/franz/radio-monitor/internal/store"
	"github.com/franz/radio-monitor/internal/util"
)

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Manage notification targets",
}

var notifyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List notification targets",
	Args:  cobra.NoArgs,
	RunE:  runNotifyList,
}

var notifyAddCmd = &cobra.Command{
	Use:   "add TYPE NAME",
	Short: "Add a notification target",
	Long: `Add a notification target. TYPE is one of:
  ` + strings.Join(notify.Kinds(), ", ") + `

--config takes the target settings as JSON, for example
  rmon notify add discord alerts --config '{"webhook_url":"https://..."}' \
      --trigger on_scrape_error --trigger on_system_error`,
	Args: cobra.ExactArgs(2),
	RunE: runNotifyAdd,
}

var notifyRemoveCmd = &cobra.Command{
	Use:   "remove ID",
	Short: "Delete a notification target",
	Args:  cobra.ExactArgs(1),
	RunE:  runNotifyRemove,
}

var notifyTestCmd = &cobra.Command{
	Use:   "test ID",
	Short: "Send a test notification",
	Args:  cobra.ExactArgs(1),
	RunE:  runNotifyTest,
}

var notifyHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent deliveries",
	Args:  cobra.NoArgs,
	RunE:  runNotifyHistory,
}

func init() {
	rootCmd.AddCommand(notifyCmd)
	notifyCmd.AddCommand(notifyListCmd)
	notifyCmd.AddCommand(notifyAddCmd)
	notifyCmd.AddCommand(notifyRemoveCmd)
	notifyCmd.AddCommand(notifyTestCmd)
	notifyCmd.AddCommand(notifyHistoryCmd)

	notifyAddCmd.Flags().String("config", "{}", "target settings as JSON")
	notifyAddCmd.Flags().StringSlice("trigger", nil, "event to subscribe to (repeatable)")
	notifyHistoryCmd.Flags().Int("limit", 20, "number of deliveries to show")
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func runNotifyList(cmd *cobra.Command, args []string) error {
	return withStore(func(db *store.Store, _ string) error {
		configs, err := db.ListNotifications()
		if err != nil {
			return err
		}
		if len(configs) == 0 {
			util.InfoLog("No notification targets configured")
			return nil
		}
		for _, n := range configs {
			state := "enabled"
			if !n.Enabled {
				state = "disabled"
			}
			util.InfoLog("  %-4d %-20s %-12s %-8s last sent %s, %d failures",
				n.ID, n.Name, n.Type, state, util.FormatAge(n.LastTriggered), n.FailureCount)
			util.InfoLog("       triggers: %s", strings.Join(n.Triggers, ", "))
		}
		return nil
	})
}

func runNotifyAdd(cmd *cobra.Command, args []string) error {
	kind, name := strings.ToLower(args[0]), args[1]
	raw, _ := cmd.Flags().GetString("config")
	triggers, _ := cmd.Flags().GetStringSlice("trigger")

	if !json.Valid([]byte(raw)) {
		return fmt.Errorf("--config is not valid JSON")
	}
	if _, err := notify.NewSink(kind, json.RawMessage(raw), nil); err != nil {
		return err
	}
	if len(triggers) == 0 {
		return fmt.Errorf("at least one --trigger is required")
	}
	for _, t := range triggers {
		if !notify.ValidTrigger(t) {
			return fmt.Errorf("unknown trigger %q", t)
		}
	}

	return withStore(func(db *store.Store, _ string) error {
		id, err := db.AddNotification(store.NotificationConfig{
			Type:     kind,
			Name:     name,
			Enabled:  true,
			Config:   json.RawMessage(raw),
			Triggers: triggers,
		})
		if err != nil {
			return err
		}
		util.SuccessLog("Added %s target %q with id %d", kind, name, id)
		return nil
	})
}

func runNotifyRemove(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	return withStore(func(db *store.Store, _ string) error {
		ok, err := db.DeleteNotification(id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("notification %d: %w", id, util.ErrNotFound)
		}
		util.SuccessLog("Removed notification %d", id)
		return nil
	})
}

func runNotifyTest(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := interruptible(cmd)
	defer stop()

	if err := notify.NewDispatcher(db, cfg.NotifyOptions()).Test(ctx, id); err != nil {
		return err
	}
	util.SuccessLog("Test notification sent")
	return nil
}

func runNotifyHistory(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	return withStore(func(db *store.Store, _ string) error {
		sends, err := db.NotificationHistory(limit)
		if err != nil {
			return err
		}
		if len(sends) == 0 {
			util.InfoLog("No notifications sent yet")
			return nil
		}
		for _, h := range sends {
			line := fmt.Sprintf("  %s  %-20s %-22s %s", h.SentAt.Format("2006-01-02 15:04"), h.NotificationName, h.EventType, h.Title)
			if h.Success {
				util.InfoLog("%s", line)
			} else {
				util.WarnLog("%s (failed: %s)", line, h.ErrorMessage)
			}
		}
		return nil
	})
}
