package ui

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/codex-k8s/swarmctl/internal/inventory"
	"github.com/codex-k8s/swarmctl/internal/probe"
)

func TestPartitionSummary(t *testing.T) {
	part := probe.Partition{
		Reachable:   []inventory.Host{{Address: "10.0.0.1", Role: inventory.RoleManager}},
		Unreachable: []inventory.Host{{Address: "10.0.0.3", Role: inventory.RoleWorker}},
		Errors:      map[string]error{"10.0.0.3": errors.New("connection timed out")},
	}

	assert.Equal(t,
		"unreachable: 10.0.0.3 (worker): connection timed out\nreachable:   10.0.0.1 (manager)",
		PartitionSummary(part))
}

func TestConfirmerAssumeYes(t *testing.T) {
	ok, err := Confirmer(true).ConfirmPartial(context.Background(), probe.Partition{})
	assert.NoError(t, err)
	assert.True(t, ok)
}
