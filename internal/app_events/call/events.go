package call

import (
	appevents "github.com/rescp17/lanCall/internal/app_events"
	"github.com/rescp17/lanCall/pkg/negotiation"
)

// --- App Events (from TUI to App) ---

// ConnectRequestedEvent asks the app to start a call.
type ConnectRequestedEvent struct {
	appevents.Event
}

// DisconnectRequestedEvent asks the app to hang up.
type DisconnectRequestedEvent struct {
	appevents.Event
}

var (
	_ appevents.AppEvent = (*ConnectRequestedEvent)(nil)
	_ appevents.AppEvent = (*DisconnectRequestedEvent)(nil)
)

// --- UI Messages (from App to TUI) ---

type StateChangedMsg struct {
	appevents.UIMessage
	State negotiation.State
}

type SessionChangedMsg struct {
	appevents.UIMessage
	Session negotiation.Session
}

type RemoteTrackMsg struct {
	appevents.UIMessage
	Track negotiation.RemoteTrack
}

// EndpointMsg tells the TUI which signaling endpoint the call uses.
type EndpointMsg struct {
	appevents.UIMessage
	URL  string
	Role negotiation.Role
}

var (
	_ appevents.AppUIMessage = StateChangedMsg{}
	_ appevents.AppUIMessage = SessionChangedMsg{}
	_ appevents.AppUIMessage = RemoteTrackMsg{}
	_ appevents.AppUIMessage = EndpointMsg{}
)
