package message

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTagOf(t *testing.T) {
	cases := []struct {
		name string
		in   Compressed
		want Tag
	}{
		{"empty", Empty{Count: 3}, TagSetBlockNumbersForNextEpoch},
		{"non_empty", NonEmpty{}, TagSetBlockNumbersForNextEpoch},
		{"correct_epochs", CompressedCorrectEpochs{}, TagCorrectEpochs},
		{"update_version", CompressedUpdateVersion{}, TagUpdateVersion},
		{"register_networks", CompressedRegisterNetworks{}, TagRegisterNetworks},
		{"reset", CompressedReset{}, TagReset},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, c.want, TagOf(c.in))
		})
	}
}

func TestTagOfUnknownPanics(t *testing.T) {
	require.Panics(t, func() {
		TagOf(nil)
	})
}
