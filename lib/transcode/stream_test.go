// Copyright 2026 The Yamlink Authors
// SPDX-License-Identifier: Apache-2.0

package transcode

import (
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yamlink-foundation/yamlink/lib/genl"
	"github.com/yamlink-foundation/yamlink/lib/nlattr"
	"github.com/yamlink-foundation/yamlink/lib/testutil"
)

// chanTransport blocks in Receive on a channel, the shape of a
// streaming event session.
type chanTransport struct {
	fakeTransport
	incoming chan []genl.Message
}

func (c *chanTransport) Receive() ([]genl.Message, error) {
	msgs, ok := <-c.incoming
	if !ok {
		return nil, genl.ErrInterrupted
	}
	return msgs, nil
}

func TestReaderStreamingSession(t *testing.T) {
	ct := &chanTransport{incoming: make(chan []genl.Message)}
	r, err := NewReader(ct, true, nil)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if !ct.stream {
		t.Fatal("streaming session did not configure the transport for async events")
	}

	type result struct {
		doc map[string]map[string]int
		err error
	}
	done := make(chan result, 1)
	go func() {
		var res result
		res.err = yaml.NewDecoder(r).Decode(&res.doc)
		done <- res
	}()

	// Events arrive one message at a time, the decoder blocked in
	// between.
	var values nlattr.Builder
	values.PutU32(2, 9000)
	testutil.RequireSend(t, ct.incoming, []genl.Message{schemaMessage(scalarEchoSchema())},
		5*time.Second, "sending schema event")
	testutil.RequireSend(t, ct.incoming, []genl.Message{valueMessage(values.Bytes())},
		5*time.Second, "sending value event")
	testutil.RequireSend(t, ct.incoming, []genl.Message{doneMessage()},
		5*time.Second, "sending terminal event")

	res := testutil.RequireReceive(t, done, 5*time.Second, "waiting for decoded document")
	if res.err != nil {
		t.Fatalf("Decode: %v", res.err)
	}
	if res.doc["net"]["mtu"] != 9000 {
		t.Errorf("decoded document: %+v", res.doc)
	}
}
