package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"

	"locationshare/internal/api"
	"locationshare/internal/config"
	"locationshare/internal/database"
	"locationshare/internal/session"
	"locationshare/pkg/types"
)

func newSessionCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage sharing rooms directly in the database",
	}
	cmd.AddCommand(newSessionCreateCmd(c), newSessionListCmd(c))
	return cmd
}

func newSessionCreateCmd(c *cli) *cobra.Command {
	var (
		duration        int
		maxParticipants int
		baseURL         string
		noQR            bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a room and print its share link",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := database.Open(c.cfg.Database.Driver, c.cfg.Database.Path, c.cfg.Database.Timeout)
			if err != nil {
				return err
			}
			defer store.Close()

			if duration == 0 {
				duration = c.cfg.Session.DefaultDuration
			}
			if maxParticipants == 0 {
				maxParticipants = c.cfg.Session.MaxParticipants
			}

			room, err := session.NewManager(store).CreateRoom(cmd.Context(), duration, maxParticipants)
			if err != nil {
				return err
			}

			if baseURL == "" {
				baseURL = defaultBaseURL(c.cfg)
			}
			shareURL, wsURL := api.ShareLinks(baseURL, room.ID)

			out := cmd.OutOrStdout()
			printRoom(out, room)
			fmt.Fprintf(out, "share:     %s\n", shareURL)
			fmt.Fprintf(out, "websocket: %s\n", wsURL)
			if !noQR {
				fmt.Fprintln(out)
				qrterminal.GenerateHalfBlock(shareURL, qrterminal.L, out)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.IntVarP(&duration, "duration", "d", 0, "room lifetime in minutes (15, 30, 60, 120, 240, 480 or 720)")
	flags.IntVarP(&maxParticipants, "max-participants", "m", 0, "participant limit (1-500)")
	flags.StringVar(&baseURL, "base-url", "", "public base URL for the share link")
	flags.BoolVar(&noQR, "no-qr", false, "do not render a QR code")
	return cmd
}

func newSessionListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List rooms that have not expired",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := database.Open(c.cfg.Database.Driver, c.cfg.Database.Path, c.cfg.Database.Timeout)
			if err != nil {
				return err
			}
			defer store.Close()

			rooms, err := session.NewManager(store).ListActiveRooms(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(rooms) == 0 {
				fmt.Fprintln(out, "no active sessions")
				return nil
			}
			for _, room := range rooms {
				printRoom(out, room)
				fmt.Fprintln(out)
			}
			return nil
		},
	}
}

func printRoom(w io.Writer, room *types.Room) {
	fmt.Fprintf(w, "session:   %s\n", room.ID)
	fmt.Fprintf(w, "expires:   %s (%d min)\n", room.ExpiresAt.Local().Format(time.RFC1123), room.DurationMinutes)
	fmt.Fprintf(w, "max:       %d participants\n", room.MaxParticipants)
}

// defaultBaseURL falls back to the local listener when no public URL is set.
func defaultBaseURL(cfg *config.Config) string {
	if cfg.HTTP.PublicBaseURL != "" {
		return cfg.HTTP.PublicBaseURL
	}
	host := cfg.HTTP.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + host + ":" + strconv.Itoa(cfg.HTTP.Port)
}
