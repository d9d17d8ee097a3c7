package cvdispatchevents

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoutingKeys(t *testing.T) {
	t.Run("empty binding uses wildcards", func(t *testing.T) {
		require.Equal(t, "primary.*.*.#", TestFinished{}.RoutingKey())
		require.Equal(t, "primary.*.#", RunFinished{}.RoutingKey())
	})

	t.Run("set fields become concrete words", func(t *testing.T) {
		binding := WorkerConnected{
			SessionID: "c5QVuC1lSq6ElE0rxgyRjw",
			ClientID:  "worker-3",
		}
		require.Equal(t, "primary.c5QVuC1lSq6ElE0rxgyRjw.worker-3.#", binding.RoutingKey())
	})

	t.Run("partial binding keeps remaining wildcards", func(t *testing.T) {
		binding := WorkerExpired{ClientID: "worker-3"}
		require.Equal(t, "primary.*.worker-3.#", binding.RoutingKey())
	})
}

func TestExchangeNames(t *testing.T) {
	require.Equal(t, "exchange/conveyor/v1/worker-connected", WorkerConnected{}.ExchangeName())
	require.Equal(t, "exchange/conveyor/v1/worker-expired", WorkerExpired{}.ExchangeName())
	require.Equal(t, "exchange/conveyor/v1/test-finished", TestFinished{}.ExchangeName())
	require.Equal(t, "exchange/conveyor/v1/run-finished", RunFinished{}.ExchangeName())
}

func TestPayloadObjects(t *testing.T) {
	require.IsType(t, &WorkerConnectedMessage{}, WorkerConnected{}.NewPayloadObject())
	require.IsType(t, &WorkerExpiredMessage{}, WorkerExpired{}.NewPayloadObject())
	require.IsType(t, &TestFinishedMessage{}, TestFinished{}.NewPayloadObject())
	require.IsType(t, &RunFinishedMessage{}, RunFinished{}.NewPayloadObject())
}
