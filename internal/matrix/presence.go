// ABOUTME: Presence updates over the client-server API for both the manager and bot sessions
// ABOUTME: Sends PUT /presence/{userId}/status with an optional status message

package matrix

import (
	"context"
	"fmt"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
)

// networkTimeout is the timeout for single Matrix API calls made without a caller deadline.
const networkTimeout = 10 * time.Second

type presenceBody struct {
	Presence  event.Presence `json:"presence"`
	StatusMsg string         `json:"status_msg,omitempty"`
}

func setPresence(ctx context.Context, cli *mautrix.Client, presence event.Presence, status string) error {
	if cli.UserID == "" {
		return fmt.Errorf("presence requires a logged in client")
	}
	url := cli.BuildClientURL("v3", "presence", string(cli.UserID), "status")
	body := presenceBody{Presence: presence, StatusMsg: status}
	if _, err := cli.MakeRequest(ctx, "PUT", url, &body, nil); err != nil {
		return fmt.Errorf("setting presence: %w", err)
	}
	return nil
}
