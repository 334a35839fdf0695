package selection

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const alertsPage = `<html><body>
<div id="progress-navigation--sidebar--content">
  <div>
    <div>Service Alerts
Route 5: 5, 5A
Buses delayed due to weather</div>
    <div>Ignored sibling</div>
  </div>
</div>
<section><p class="h1">Detours</p>
Route 9: 9
Service suspended</section>
<section><p class="h1">Fares</p></section>
</body></html>`

func TestTextDefaultSelector(t *testing.T) {
	t.Parallel()

	got, err := Text([]byte(alertsPage), Config{})
	require.NoError(t, err)
	require.Equal(t, "Service Alerts\nRoute 5: 5, 5A\nBuses delayed due to weather", got)
}

func TestTextUseParentJoinsMatches(t *testing.T) {
	t.Parallel()

	got, err := Text([]byte(alertsPage), Config{Selector: "p.h1", UseParent: true})
	require.NoError(t, err)
	require.Equal(t, "Detours\nRoute 9: 9\nService suspended\n\nFares", got)
}

func TestTextNoMatchIsEmpty(t *testing.T) {
	t.Parallel()

	got, err := Text([]byte(`<html><body><p>nothing here</p></body></html>`), Config{Selector: "#missing"})
	require.NoError(t, err)
	require.Empty(t, got)

	got, err = Text(nil, Config{})
	require.NoError(t, err)
	require.Empty(t, got)
}
