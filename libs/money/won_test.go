package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWon(t *testing.T) {
	cases := map[int64]string{
		0:         "0",
		999:       "999",
		1000:      "1,000",
		1234567:   "1,234,567",
		123456789: "123,456,789",
		-12000:    "-12,000",
		-120000:   "-120,000",
	}
	for in, want := range cases {
		assert.Equal(t, want, Won(in), "Won(%d)", in)
	}
	assert.Equal(t, "45,000원", WonSuffix(45000))
}
