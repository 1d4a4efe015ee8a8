package probe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-discover/internal/agents"
	"github.com/ahrav/go-discover/internal/domain"
)

func TestCatalog_CoversRemoteAgents(t *testing.T) {
	reg := agents.DefaultRegistry()
	brand := domain.Brand{ID: "b1", WebsiteURL: "https://www.acme.test/shop"}

	for _, name := range reg.Names() {
		def, _ := reg.Definition(name)
		if def.Mode != agents.ModeRemote {
			continue
		}
		specs, err := Catalog(name, brand, CatalogOptions{MaxRetries: 1})
		require.NoError(t, err, name)

		var dims []domain.Dimension
		for _, s := range specs {
			dims = append(dims, s.Dimension)
			prompt, err := render(s)
			require.NoError(t, err, s.Name)
			assert.Contains(t, prompt, "acme.test")
		}
		assert.ElementsMatch(t, def.Dimensions, dims, name)
	}
	assert.Len(t, ProbeAgents(), 4)
}

func TestCatalog_Degraded(t *testing.T) {
	brand := domain.Brand{ID: "b1", WebsiteURL: "https://acme.test", Name: "Acme"}
	specs, err := Catalog(agents.Sentiment, brand, CatalogOptions{Degraded: true})
	require.NoError(t, err)
	require.Len(t, specs, 1)

	prompt, err := render(specs[0])
	require.NoError(t, err)
	assert.Contains(t, prompt, `"Acme"`)
	assert.Contains(t, prompt, "unavailable")
}

func TestCatalog_LocalAgentHasNoProbes(t *testing.T) {
	_, err := Catalog(agents.SiteCrawl, domain.Brand{ID: "b", WebsiteURL: "https://a.test"}, CatalogOptions{})
	assert.ErrorIs(t, err, domain.ErrUnknownAgent)
}
