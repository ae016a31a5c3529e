//
// Copyright (C) 2026 Kestrel Authors. All rights reserved.
//
// kestrel is licensed under the Apache License Version 2.0.
//

package redis

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKeyLayout(t *testing.T) {
	require.Equal(t, "kestrel:ckpt:t1:seq", seqKey("t1"))
	require.Equal(t, "kestrel:ckpt:t1:index", indexKey("t1"))
	require.Equal(t, "kestrel:ckpt:t1:cp:abc", checkpointKey("t1", "abc"))
}

func TestRecordRoundTrip(t *testing.T) {
	rec := record{
		ID:        "cp-1",
		Sequence:  7,
		State:     json.RawMessage(`{"topic":"geothermal"}`),
		Metadata:  map[string]any{"node": "worker", "awaiting_decision": false},
		ParentID:  "cp-0",
		Node:      "worker",
		CreatedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}

	payload, err := json.Marshal(&rec)
	require.NoError(t, err)

	var got record
	require.NoError(t, json.Unmarshal(payload, &got))
	require.Equal(t, rec.ID, got.ID)
	require.Equal(t, rec.Sequence, got.Sequence)
	require.JSONEq(t, string(rec.State), string(got.State))
	require.Equal(t, "worker", got.Node)

	cp := got.toCheckpoint("t1")
	require.Equal(t, "t1", cp.ThreadID)
	require.Equal(t, int64(7), cp.Sequence)
	require.False(t, cp.AwaitingDecision())
}

func TestNewFromURLRejectsBadURL(t *testing.T) {
	_, err := NewFromURL("not-a-url")
	require.Error(t, err)
}
