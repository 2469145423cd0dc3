package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRelationshipTransitions_Labels(t *testing.T) {
	c := RelationshipTransitions.WithLabelValues("request", OutcomeOK)
	before := testutil.ToFloat64(c)
	c.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(c))
}

func TestLastMessageFailures_Inc(t *testing.T) {
	before := testutil.ToFloat64(LastMessageFailures)
	LastMessageFailures.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(LastMessageFailures))
}
