package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"meetsfu/internal/core/domain"
	"meetsfu/internal/core/services"

	"github.com/spf13/cobra"
)

var (
	tokenSecret string
	tokenUID    string
	tokenName   string
	tokenHost   bool
	tokenTTL    time.Duration
)

var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "List media workers and their router load",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Workers []domain.WorkerUsage `json:"workers"`
		}
		if err := apiClient().get(cmd.Context(), "/workers", &resp); err != nil {
			return err
		}
		renderWorkers(cmd.OutOrStdout(), resp.Workers)
		return nil
	},
}

var countsCmd = &cobra.Command{
	Use:   "counts",
	Short: "Show the number of live handles per kind",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Counts domain.RegistryCounts `json:"counts"`
		}
		if err := apiClient().get(cmd.Context(), "/counts", &resp); err != nil {
			return err
		}
		renderCounts(cmd.OutOrStdout(), resp.Counts)
		return nil
	},
}

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List open rooms",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Rooms []domain.RoomDump `json:"rooms"`
		}
		if err := apiClient().get(cmd.Context(), "/rooms", &resp); err != nil {
			return err
		}
		renderRooms(cmd.OutOrStdout(), resp.Rooms, time.Now())
		return nil
	},
}

var roomCmd = &cobra.Command{
	Use:   "room <id>",
	Short: "Show one room and its members",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Room domain.RoomDump `json:"room"`
		}
		if err := apiClient().get(cmd.Context(), "/rooms/"+escape(args[0]), &resp); err != nil {
			return err
		}
		renderRoom(cmd.OutOrStdout(), resp.Room, time.Now())
		return nil
	},
}

var handlesCmd = &cobra.Command{
	Use:   "handles <kind>",
	Short: "List live handle ids of a kind (worker, router, transport, producer, consumer)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := parseKind(args[0])
		if err != nil {
			return err
		}
		var resp struct {
			IDs []string `json:"ids"`
		}
		if err := apiClient().get(cmd.Context(), "/handles/"+string(kind), &resp); err != nil {
			return err
		}
		renderHandles(cmd.OutOrStdout(), kind, resp.IDs)
		return nil
	},
}

var dumpCmd = &cobra.Command{
	Use:   "dump <kind> <id|latest>",
	Short: "Print the dump of a media handle",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := parseKind(args[0])
		if err != nil {
			return err
		}
		var dump map[string]interface{}
		if err := apiClient().get(cmd.Context(), "/handles/"+string(kind)+"/"+escape(args[1]), &dump); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), dump)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats <kind> <id|latest>",
	Short: "Show the stats of a media handle",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := parseKind(args[0])
		if err != nil {
			return err
		}
		var stats map[string]interface{}
		if err := apiClient().get(cmd.Context(), "/handles/"+string(kind)+"/"+escape(args[1])+"/stats", &stats); err != nil {
			return err
		}
		renderStats(cmd.OutOrStdout(), stats)
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a signaling token locally with the server's secret",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenSecret == "" {
			return fmt.Errorf("--secret is required")
		}
		auth := services.NewAuthService(tokenSecret, tokenTTL)
		token, err := auth.GenerateToken(domain.Identity{
			UserID:      domain.UserID(tokenUID),
			DisplayName: tokenName,
			Host:        tokenHost,
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workersCmd, countsCmd, roomsCmd, roomCmd, handlesCmd, dumpCmd, statsCmd, tokenCmd)

	tokenCmd.Flags().StringVar(&tokenSecret, "secret", "", "JWT secret configured on the server")
	tokenCmd.Flags().StringVarP(&tokenUID, "uid", "u", "", "User id carried by the token")
	tokenCmd.Flags().StringVarP(&tokenName, "name", "n", "", "Display name carried by the token")
	tokenCmd.Flags().BoolVar(&tokenHost, "host", false, "Grant host rights")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "Token lifetime")
}

func apiClient() *client {
	return newClient(serverURL, authToken, timeout)
}

func parseKind(s string) (domain.HandleKind, error) {
	kind, ok := domain.ParseHandleKind(s)
	if !ok {
		return "", fmt.Errorf("unknown handle kind %q", s)
	}
	return kind, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
