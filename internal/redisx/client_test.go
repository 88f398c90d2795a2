package redisx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewAppliesTimeouts(t *testing.T) {
	r := New("localhost:6379")
	defer r.Close()

	opts := r.Options()
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, 2*time.Second, opts.DialTimeout)
	assert.Equal(t, 2*time.Second, opts.ReadTimeout)
	assert.Equal(t, 2*time.Second, opts.WriteTimeout)
}
