package domain

// RecordID identifies a buffered record. Zero is never assigned by a store
// and marks live data that has not been buffered.
type RecordID int64

// Live is the origin of data that came straight from the sensor.
const Live RecordID = 0

// Record is a message held in the persistent queue.
type Record struct {
	ID      RecordID
	Payload string
}

// Connectivity is the broker session state.
type Connectivity int

const (
	Disconnected Connectivity = iota
	Connected
)

// String returns a human-readable representation of the state.
func (c Connectivity) String() string {
	switch c {
	case Disconnected:
		return "Disconnected"
	case Connected:
		return "Connected"
	default:
		return "Unknown"
	}
}

// Kind distinguishes the two sorts of datum.
type Kind int

const (
	KindMessage Kind = iota
	KindConnectivity
)

// Datum is one unit of work for the data manager.
type Datum struct {
	Kind Kind

	// Origin is Live for fresh sensor data, otherwise the identifier of the
	// buffered record being replayed.
	Origin RecordID

	// Payload is the formatted message. Empty for connectivity notices.
	Payload string

	// Link is the new session state carried by a connectivity notice.
	Link Connectivity

	// Pass is the replay pass a replayed datum was emitted under.
	Pass uint64
}

// NewMessage returns a datum carrying live sensor data.
func NewMessage(payload string) Datum {
	return Datum{Kind: KindMessage, Origin: Live, Payload: payload}
}

// NewReplay returns a datum replaying a buffered record during pass.
func NewReplay(rec Record, pass uint64) Datum {
	return Datum{Kind: KindMessage, Origin: rec.ID, Payload: rec.Payload, Pass: pass}
}

// NewNotice returns a connectivity notice.
func NewNotice(link Connectivity) Datum {
	return Datum{Kind: KindConnectivity, Link: link}
}

// IsReplay reports whether the datum came out of the persistent queue.
func (d Datum) IsReplay() bool {
	return d.Kind == KindMessage && d.Origin != Live
}
