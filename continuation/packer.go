package continuation

import (
	"time"

	"github.com/dogmatiq/marshalkit"
	"github.com/google/uuid"
)

// Packer builds tokens from caller-supplied inputs.
type Packer struct {
	// Marshaler is the marshaler used to marshal step payloads.
	Marshaler marshalkit.ValueMarshaler

	// GenerateID is a function used to generate new tracking IDs. If it is
	// nil, a UUID is generated.
	GenerateID func() string

	// Now is a function used to get the current time. If it is nil,
	// time.Now() is used.
	Now func() time.Time
}

// Pack returns the initial token for the operation described by in.
func (p *Packer) Pack(in Input) (Token, error) {
	var packet marshalkit.Packet

	if in.Payload != nil {
		var err error
		packet, err = p.Marshaler.Marshal(in.Payload)
		if err != nil {
			return Token{}, err
		}
	}

	id := in.TrackingID
	if id == "" {
		id = p.generateID()
	}

	return Token{
		TrackingID: id,
		Handler:    in.Handler,
		Payload:    packet,
		CreatedAt:  p.now(),
		Properties: in.Properties,
	}, nil
}

// PackPayload marshals a step payload into its packet form.
func (p *Packer) PackPayload(v interface{}) (marshalkit.Packet, error) {
	if v == nil {
		return marshalkit.Packet{}, nil
	}

	return p.Marshaler.Marshal(v)
}

// UnpackPayload unmarshals the payload carried by t.
//
// It returns nil if the token carries no payload.
func (p *Packer) UnpackPayload(t Token) (interface{}, error) {
	if t.Payload.MediaType == "" {
		return nil, nil
	}

	return p.Marshaler.Unmarshal(t.Payload)
}

func (p *Packer) generateID() string {
	if p.GenerateID != nil {
		return p.GenerateID()
	}

	return uuid.NewString()
}

func (p *Packer) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}

	return time.Now()
}
