package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/franz/radio-monitor/internal/store"
	"github.com/franz/radio-monitor/internal/util"
)

var stationCmd = &cobra.Command{
	Use:   "station",
	Short: "Manage the stations that are scraped",
}

var stationListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stations",
	Args:  cobra.NoArgs,
	RunE:  runStationList,
}

var stationAddCmd = &cobra.Command{
	Use:   "add ID NAME URL",
	Short: "Add a station",
	Args:  cobra.ExactArgs(3),
	RunE:  runStationAdd,
}

var stationEditCmd = &cobra.Command{
	Use:   "edit ID",
	Short: "Change a station's settings",
	Long: `Change a station's settings. Only the flags that are given are
updated.`,
	Args: cobra.ExactArgs(1),
	RunE: runStationEdit,
}

var stationRemoveCmd = &cobra.Command{
	Use:   "remove ID",
	Short: "Delete a station",
	Long: `Delete a station. A station with recorded plays is only removed with
--force, and its plays are deleted with it.`,
	Args: cobra.ExactArgs(1),
	RunE: runStationRemove,
}

func init() {
	rootCmd.AddCommand(stationCmd)
	stationCmd.AddCommand(stationListCmd)
	stationCmd.AddCommand(stationAddCmd)
	stationCmd.AddCommand(stationEditCmd)
	stationCmd.AddCommand(stationRemoveCmd)
	stationCmd.AddCommand(&cobra.Command{
		Use:   "enable ID",
		Short: "Resume scraping a station",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return setStationEnabled(args[0], true) },
	})
	stationCmd.AddCommand(&cobra.Command{
		Use:   "disable ID",
		Short: "Stop scraping a station",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return setStationEnabled(args[0], false) },
	})

	for _, c := range []*cobra.Command{stationAddCmd, stationEditCmd} {
		c.Flags().String("genre", "", "genre label")
		c.Flags().String("market", "", "market label")
		c.Flags().Bool("has-mbid", false, "the page carries MusicBrainz ids")
		c.Flags().Int("wait", 0, "seconds to wait for the page to render")
	}
	stationEditCmd.Flags().String("name", "", "display name")
	stationEditCmd.Flags().String("url", "", "page to scrape")
	stationListCmd.Flags().Bool("enabled", false, "only enabled stations")
	stationRemoveCmd.Flags().Bool("force", false, "also delete the station's plays")
}

func runStationList(cmd *cobra.Command, args []string) error {
	enabledOnly, _ := cmd.Flags().GetBool("enabled")
	return withStore(func(db *store.Store, _ string) error {
		stations, err := db.ListStations(enabledOnly)
		if err != nil {
			return err
		}
		for _, st := range stations {
			state := "enabled"
			if !st.Enabled {
				state = "disabled"
			}
			line := fmt.Sprintf("  %-12s %-28s %-8s %s", st.ID, st.Name, state, st.URL)
			if st.ConsecutiveFailures > 0 {
				util.WarnLog("%s (%d failures, last %s)", line, st.ConsecutiveFailures, util.FormatAge(st.LastFailureAt))
				continue
			}
			util.InfoLog("%s", line)
		}
		return nil
	})
}

func runStationAdd(cmd *cobra.Command, args []string) error {
	st := store.Station{ID: args[0], Name: args[1], URL: args[2]}
	applyStationFlags(cmd, &st)
	return withStore(func(db *store.Store, _ string) error {
		added, err := db.AddStation(st)
		if err != nil {
			return err
		}
		if !added {
			return fmt.Errorf("station %s: %w", st.ID, util.ErrConflict)
		}
		util.SuccessLog("Added station %s", st.ID)
		return nil
	})
}

func runStationEdit(cmd *cobra.Command, args []string) error {
	return withStore(func(db *store.Store, _ string) error {
		st, err := db.GetStation(args[0])
		if err != nil {
			return err
		}
		if st == nil {
			return fmt.Errorf("station %s: %w", args[0], util.ErrNotFound)
		}
		if cmd.Flags().Changed("name") {
			st.Name, _ = cmd.Flags().GetString("name")
		}
		if cmd.Flags().Changed("url") {
			st.URL, _ = cmd.Flags().GetString("url")
		}
		applyStationFlags(cmd, st)
		if _, err := db.UpdateStation(*st); err != nil {
			return err
		}
		util.SuccessLog("Updated station %s", st.ID)
		return nil
	})
}

func applyStationFlags(cmd *cobra.Command, st *store.Station) {
	f := cmd.Flags()
	if f.Changed("genre") {
		st.Genre, _ = f.GetString("genre")
	}
	if f.Changed("market") {
		st.Market, _ = f.GetString("market")
	}
	if f.Changed("has-mbid") {
		st.HasMBID, _ = f.GetBool("has-mbid")
	}
	if f.Changed("wait") {
		st.WaitTime, _ = f.GetInt("wait")
	}
}

func runStationRemove(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")
	return withStore(func(db *store.Store, _ string) error {
		deleted, err := db.DeleteStation(args[0], force)
		if err != nil {
			return err
		}
		if !deleted {
			return fmt.Errorf("station %s: %w", args[0], util.ErrNotFound)
		}
		util.SuccessLog("Removed station %s", args[0])
		return nil
	})
}

func setStationEnabled(id string, enabled bool) error {
	return withStore(func(db *store.Store, _ string) error {
		st, err := db.GetStation(id)
		if err != nil {
			return err
		}
		if st == nil {
			return fmt.Errorf("station %s: %w", id, util.ErrNotFound)
		}
		if err := db.SetStationEnabled(id, enabled); err != nil {
			return err
		}
		if enabled {
			util.SuccessLog("Station %s enabled", id)
		} else {
			util.SuccessLog("Station %s disabled", id)
		}
		return nil
	})
}
