package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tehaksbrid/shop-databaser/internal/core"
	"github.com/tehaksbrid/shop-databaser/internal/models"
	"nhooyr.io/websocket"
)

var statusWatch bool

var statusCmd = &cobra.Command{
	Use:   "status [store]",
	Short: "Show sync progress",
	Long: `Show the latest status report of one store, or of every store.

With --watch, stay connected and print each report the daemon pushes.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "Follow status reports as they arrive")
}

func runStatus(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	c := NewClient(apiURL)
	uuid := ""
	if len(args) == 1 {
		uuid = mustResolve(ctx, c, args[0]).UUID
	}

	reports, err := c.Status(ctx, uuid)
	if err != nil {
		exitError("%v", err)
	}
	if len(reports) == 0 && !statusWatch {
		fmt.Println("No status reported yet.")
		return
	}
	for i, r := range reports {
		if i > 0 {
			fmt.Println()
		}
		renderStatus(os.Stdout, r)
	}

	if statusWatch {
		if err := c.watchStatus(ctx, uuid, os.Stdout); err != nil && ctx.Err() == nil {
			exitError("%v", err)
		}
	}
}

// watchStatus prints every status report pushed for uuid (any store when empty)
// until ctx is cancelled or the daemon closes the stream.
func (c *Client) watchStatus(ctx context.Context, uuid string, w io.Writer) error {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/api/v1/events"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("connect to event stream: %w", err)
	}
	defer conn.CloseNow()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return err
		}
		report, ok := decodeStatusEvent(data)
		if !ok || (uuid != "" && (report.Store == nil || report.Store.UUID != uuid)) {
			continue
		}
		fmt.Fprintln(w)
		renderStatus(w, report)
	}
}

// decodeStatusEvent extracts the report from a statusReport event.
func decodeStatusEvent(data []byte) (*models.StatusReport, bool) {
	var e struct {
		Type    string               `json:"type"`
		Payload *models.StatusReport `json:"payload"`
	}
	if err := json.Unmarshal(data, &e); err != nil || e.Type != core.EventStatusReport || e.Payload == nil {
		return nil, false
	}
	return e.Payload, true
}
