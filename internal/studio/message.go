package studio

import (
	"marai-studio/internal/timeline"
)

// Message types pushed to websocket clients.
const (
	MsgSnapshot    = "snapshot"
	MsgActiveLine  = "active_line"
	MsgPlayerState = "player_state"
	MsgPlayerSeek  = "player_seek"
	MsgElement     = "element"
	MsgEdit        = "edit"
	MsgError       = "error"
	MsgClosed      = "closed"
)

// Message is one server to client push.
type Message struct {
	Type        string                `json:"type"`
	Snapshot    *timeline.Snapshot    `json:"snapshot,omitempty"`
	ActiveLine  *timeline.ActiveLine  `json:"active_line,omitempty"`
	PlayerState *timeline.PlayerState `json:"player_state,omitempty"`
	// Seconds is the target of a player seek or element command.
	Seconds *float64 `json:"seconds,omitempty"`
	// Action is play, pause or seek for element commands.
	Action string      `json:"action,omitempty"`
	Edit   *EditResult `json:"edit,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// EditResult reports whether a committed edit reached the backend.
type EditResult struct {
	TrackID   string `json:"track_id"`
	SegmentID string `json:"segment_id"`
	LineID    string `json:"line_id"`
	Synced    bool   `json:"synced"`
	Error     string `json:"error,omitempty"`
}

// Command types accepted from clients, over the websocket or HTTP.
const (
	CmdPlay         = "play"
	CmdPause        = "pause"
	CmdStop         = "stop"
	CmdToggle       = "toggle"
	CmdSeek         = "seek"
	CmdNudge        = "nudge"
	CmdSeekPixel    = "seek_pixel"
	CmdZoom         = "zoom"
	CmdMasterVolume = "master_volume"
	CmdTrackVolume  = "track_volume"
	CmdSolo         = "solo"
	CmdSelect       = "select"
	CmdClick        = "click"
	CmdFocus        = "focus"
	CmdPointerDown  = "pointer_down"
	CmdBeginDrag    = "begin_drag"
	CmdPointerMove  = "pointer_move"
	CmdPointerUp    = "pointer_up"
	CmdCancelDrag   = "cancel_drag"
	CmdSetValue     = "set_value"
	CmdElement      = "element"
)

// Command is one client request against a session.
type Command struct {
	Type      string                 `json:"type"`
	Ms        int64                  `json:"ms,omitempty"`
	X         float64                `json:"x,omitempty"`
	Value     float64                `json:"value,omitempty"`
	TrackID   string                 `json:"track_id,omitempty"`
	SegmentID string                 `json:"segment_id,omitempty"`
	Channel   timeline.Channel       `json:"channel,omitempty"`
	Mode      string                 `json:"mode,omitempty"`
	Text      string                 `json:"text,omitempty"`
	Event     *timeline.ElementEvent `json:"event,omitempty"`
}
