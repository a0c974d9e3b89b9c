package dispatch

// SendAllState is the send-all affordance. Exactly one state holds for any
// {sent, total, inFlight} and only Ready allows a send.
type SendAllState string

const (
	SendAllReady        SendAllState = "ready"
	SendAllNoRecipients SendAllState = "no_recipients"
	SendAllAllSent      SendAllState = "all_sent"
	SendAllInFlight     SendAllState = "in_flight"
)

var sendAllLabels = map[SendAllState]string{
	SendAllReady:        "send all",
	SendAllNoRecipients: "no recipients",
	SendAllAllSent:      "all sent",
	SendAllInFlight:     "sending…",
}

func (s SendAllState) Label() string  { return sendAllLabels[s] }
func (s SendAllState) Enabled() bool  { return s == SendAllReady }
func (s SendAllState) String() string { return string(s) }

// SendAllStateFor derives the affordance from progress counts alone. An empty
// campaign cannot have a bulk send in flight, and a finished campaign reports
// all sent even while a late request is still outstanding.
func SendAllStateFor(sent, total int, inFlight bool) SendAllState {
	switch {
	case total <= 0:
		return SendAllNoRecipients
	case sent >= total:
		return SendAllAllSent
	case inFlight:
		return SendAllInFlight
	default:
		return SendAllReady
	}
}

// RecordState is the per-record send affordance.
type RecordState string

const (
	RecordReady    RecordState = "ready"
	RecordSent     RecordState = "sent"
	RecordInFlight RecordState = "in_flight"
)

var recordLabels = map[RecordState]string{
	RecordReady:    "send",
	RecordSent:     "sent",
	RecordInFlight: "sending…",
}

func (s RecordState) Label() string { return recordLabels[s] }
func (s RecordState) Enabled() bool { return s == RecordReady }

func RecordStateFor(isSent, inFlight bool) RecordState {
	switch {
	case isSent:
		return RecordSent
	case inFlight:
		return RecordInFlight
	default:
		return RecordReady
	}
}

func (s SendAllState) err() error {
	switch s {
	case SendAllNoRecipients:
		return ErrNoRecipients
	case SendAllAllSent:
		return ErrAllSent
	case SendAllInFlight:
		return ErrCampaignInFlight
	default:
		return nil
	}
}
