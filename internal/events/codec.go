package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// EnvelopeVersion is written into every bridge envelope. Receivers accept any
// version and fall back to Unknown for kinds they cannot decode.
const EnvelopeVersion = 1

var ErrMalformed = errors.New("events: malformed payload")

var validate = validator.New()

// Frame is the websocket wire format in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type decodeFunc func(data []byte) (Event, error)

// decoders maps every accepted name to its payload type. Client-side story
// names decode to the same types as their friend-facing counterparts.
var decoders = map[string]decodeFunc{
	NameJoinRoom:           decodeAs[JoinRoom],
	NameLeaveRoom:          decodeAs[LeaveRoom],
	NameSendMessage:        decodeAs[SendMessage],
	NameNewMessage:         decodeAs[NewMessage],
	NameTyping:             decodeAs[Typing],
	NameStopTyping:         decodeAs[StopTyping],
	NameStatus:             decodeAs[StatusBatch],
	NameChatUpdated:        decodeAs[ChatUpdated],
	NameAdminToggled:       decodeAs[AdminToggled],
	NameParticipantRemoved: decodeAs[ParticipantRemoved],
	NameLeftGroup:          decodeAs[LeftGroup],
	NameParticipantsAdded:  decodeAs[ParticipantsAdded],
	NameStoryCreated:       decodeAs[StoryCreated],
	NameMyStoryCreated:     decodeAs[StoryCreated],
	NameStorySeen:          decodeAs[StorySeen],
	NameStoryReacted:       decodeAs[StoryReacted],
	NameStoryDeleted:       decodeAs[StoryDeleted],
	NameMyStoryDeleted:     decodeAs[StoryDeleted],
	NameError:              decodeAs[ErrorNotice],
}

func decodeAs[T Event](data []byte) (Event, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return v, nil
}

// Decode turns a named payload into its typed event. Names that are not
// known yield Unknown and no error.
func Decode(name string, data []byte) (Event, error) {
	if len(data) == 0 {
		data = []byte("null")
	}
	if kind, ok := callKinds[name]; ok {
		var sig CallSignal
		if err := json.Unmarshal(data, &sig); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		sig.Kind = kind
		return sig, nil
	}
	dec, ok := decoders[name]
	if !ok {
		return Unknown{Kind: name, Data: append(json.RawMessage(nil), data...)}, nil
	}
	return dec(data)
}

// DecodeFrame parses a raw websocket message sent by a client.
func DecodeFrame(raw []byte) (Event, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: invalid json", ErrMalformed)
	}
	name := gjson.GetBytes(raw, "event")
	if name.Type != gjson.String || name.Str == "" {
		return nil, fmt.Errorf("%w: missing event name", ErrMalformed)
	}
	data := gjson.GetBytes(raw, "data")
	return Decode(name.Str, []byte(data.Raw))
}

// EncodeFrame renders ev the way clients expect to receive it.
func EncodeFrame(ev Event) ([]byte, error) {
	data, err := payload(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: ev.Name(), Data: data})
}

func payload(ev Event) (json.RawMessage, error) {
	if u, ok := ev.(Unknown); ok {
		if len(u.Data) == 0 {
			return json.RawMessage("null"), nil
		}
		return u.Data, nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.Name(), err)
	}
	return data, nil
}

// Validate checks the struct tags of an inbound event.
func Validate(ev Event) error {
	var err error
	switch e := ev.(type) {
	case StatusBatch:
		if len(e) == 0 {
			return fmt.Errorf("%w: empty status batch", ErrMalformed)
		}
		for i := range e {
			if err = validate.Struct(e[i]); err != nil {
				break
			}
			if !e[i].Status.Valid() {
				return fmt.Errorf("%w: unknown status %q for message %s", ErrMalformed, e[i].Status, e[i].MessageID)
			}
		}
	case CallSignal:
		if e.To == "" {
			return fmt.Errorf("%w: call signal without recipient", ErrMalformed)
		}
	case Unknown:
		return nil
	default:
		err = validate.Struct(ev)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// Target says who an envelope is for. Either Users or Room is set. Exclude
// names a user whose connections never receive the event.
type Target struct {
	Users   []string `json:"users,omitempty"`
	Room    string   `json:"room,omitempty"`
	Exclude string   `json:"exclude,omitempty"`
}

// Envelope is what travels on the bridge between nodes. It carries its own
// routing target so a receiver needs nothing beyond its local registry.
type Envelope struct {
	Version int
	ID      string
	Origin  string
	At      time.Time
	Target  Target
	Event   Event
}

type wireEnvelope struct {
	Version int             `json:"v"`
	ID      string          `json:"id"`
	Origin  string          `json:"origin,omitempty"`
	At      time.Time       `json:"at"`
	Target  Target          `json:"target"`
	Kind    string          `json:"kind"`
	Data    json.RawMessage `json:"data"`
}

// NewEnvelope stamps ev with a fresh id and the current time.
func NewEnvelope(origin string, target Target, ev Event) Envelope {
	return Envelope{
		Version: EnvelopeVersion,
		ID:      uuid.NewString(),
		Origin:  origin,
		At:      time.Now().UTC(),
		Target:  target,
		Event:   ev,
	}
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Event == nil {
		return nil, fmt.Errorf("%w: envelope without event", ErrMalformed)
	}
	data, err := payload(e.Event)
	if err != nil {
		return nil, err
	}
	version := e.Version
	if version == 0 {
		version = EnvelopeVersion
	}
	return json.Marshal(wireEnvelope{
		Version: version,
		ID:      e.ID,
		Origin:  e.Origin,
		At:      e.At,
		Target:  e.Target,
		Kind:    e.Event.Name(),
		Data:    data,
	})
}

func (e *Envelope) UnmarshalJSON(b []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if w.Kind == "" {
		return fmt.Errorf("%w: envelope without kind", ErrMalformed)
	}
	ev, err := Decode(w.Kind, w.Data)
	if err != nil {
		return err
	}
	*e = Envelope{
		Version: w.Version,
		ID:      w.ID,
		Origin:  w.Origin,
		At:      w.At,
		Target:  w.Target,
		Event:   ev,
	}
	return nil
}
