package protocol

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestParseEnvelope(t *testing.T) {
	c := qt.New(t)

	env, err := ParseEnvelope([]byte(`{"id":"abc","kind":1,"payload":"xyz","election_id":"e1"}`))
	c.Assert(err, qt.IsNil)
	c.Assert(env.ID, qt.Equals, "abc")
	c.Assert(env.Kind, qt.Equals, KindIssuance)
	c.Assert(env.ElectionID, qt.Equals, "e1")
}

func TestParseEnvelopeRejectsUnknownKind(t *testing.T) {
	c := qt.New(t)
	_, err := ParseEnvelope([]byte(`{"id":"abc","kind":99,"payload":"xyz"}`))
	c.Assert(err, qt.IsNotNil)
}

func TestParseEnvelopeRejectsGarbage(t *testing.T) {
	c := qt.New(t)
	_, err := ParseEnvelope([]byte(`not json`))
	c.Assert(err, qt.IsNotNil)
}
