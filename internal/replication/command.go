package replication

import (
	"fmt"
	"time"

	"github.com/okian/reciperage/internal/domain/model"
)

// CommandKind names a client request.
type CommandKind string

const (
	CmdStartCooking    CommandKind = "start_cooking"
	CmdAttend          CommandKind = "attend"
	CmdCollect         CommandKind = "collect"
	CmdResetStation    CommandKind = "reset_station"
	CmdDeliverOrder    CommandKind = "deliver_order"
	CmdEndGame         CommandKind = "end_game"
	CmdRequestSnapshot CommandKind = "request_snapshot"
	CmdAddIngredient   CommandKind = "add_ingredient"
	CmdStartPlating    CommandKind = "start_plating"
	CmdStartMixing     CommandKind = "start_mixing"
)

// Command is a client request. Only the fields used by Kind are read.
// Commands with an ID are deduplicated and acknowledged.
type Command struct {
	ID            string               `json:"id,omitempty"`
	Kind          CommandKind          `json:"kind"`
	StationID     string               `json:"station_id,omitempty"`
	RecipeID      string               `json:"recipe_id,omitempty"`
	Item          *model.InventoryItem `json:"item,omitempty"`
	OrderID       string               `json:"order_id,omitempty"`
	IngredientIDs []string             `json:"ingredient_ids,omitempty"`
	Team          string               `json:"team,omitempty"`
}

// Validate checks that the fields Kind needs are present.
func (c Command) Validate() error {
	switch c.Kind {
	case CmdStartCooking, CmdAddIngredient:
		if c.StationID == "" || c.Item == nil {
			return fmt.Errorf("%w: %s needs station_id and item", ErrInvalidCommand, c.Kind)
		}
	case CmdStartPlating:
		if c.StationID == "" || c.RecipeID == "" {
			return fmt.Errorf("%w: %s needs station_id and recipe_id", ErrInvalidCommand, c.Kind)
		}
	case CmdAttend, CmdCollect, CmdResetStation, CmdStartMixing:
		if c.StationID == "" {
			return fmt.Errorf("%w: %s needs station_id", ErrInvalidCommand, c.Kind)
		}
	case CmdDeliverOrder:
		if c.OrderID == "" {
			return fmt.Errorf("%w: %s needs order_id", ErrInvalidCommand, c.Kind)
		}
	case CmdEndGame, CmdRequestSnapshot:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, c.Kind)
	}
	return nil
}

// Envelope is a command as queued for the tick loop.
type Envelope struct {
	ClientID   string
	Team       string // team the transport bound the client to
	Command    Command
	ReceivedAt time.Time
}
