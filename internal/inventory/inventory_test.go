package inventory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBook_Check(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		available int
		wantErr   bool
	}{
		{"all on shelf", 3, 3, false},
		{"all lent", 3, 0, false},
		{"negative available", 3, -1, true},
		{"available above total", 3, 4, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Book{TotalCount: tt.total, AvailableCount: tt.available}.Check()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrConsistency)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBook_OnLoan(t *testing.T) {
	assert.Equal(t, 2, Book{TotalCount: 5, AvailableCount: 3}.OnLoan())
}

func TestNormalizeISBN(t *testing.T) {
	assert.Equal(t, "9780807083697", NormalizeISBN("978-0-8070-8369-7"))
	assert.Equal(t, "9780807083697", NormalizeISBN("978 0807 083697"))
	assert.Equal(t, "080508049X", NormalizeISBN("0-8050-8049-x"))
}
