package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/xchange/internal/model"
)

func TestManualTime(t *testing.T) {
	m := NewManualTime(100)
	assert.Equal(t, model.Moment(100), m.Now())

	assert.Equal(t, model.Moment(110), m.Advance(10))
	assert.Equal(t, model.Moment(110), m.Now())

	m.Set(5)
	assert.Equal(t, model.Moment(5), m.Now())
}

func TestSequenceTokens(t *testing.T) {
	g := NewSequenceTokens("")
	assert.Equal(t, "trace-0001", g.Generate())
	assert.Equal(t, "trace-0002", g.Generate())

	g.Reset()
	assert.Equal(t, "trace-0001", g.Generate())

	named := NewSequenceTokens("alpha")
	assert.Equal(t, "alpha-0001", named.Generate())
}

func TestSequenceTokensConcurrent(t *testing.T) {
	g := NewSequenceTokens("x")
	const n = 100

	var wg sync.WaitGroup
	seen := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- g.Generate()
		}()
	}
	wg.Wait()
	close(seen)

	unique := map[string]bool{}
	for tok := range seen {
		unique[tok] = true
	}
	assert.Len(t, unique, n)
}
