// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package idgen

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunIDsIncrease(t *testing.T) {
	g := NewRunIDGenerator()
	now := time.Now()

	prev := g.Make(now)
	for range 100 {
		id := g.Make(now)
		assert.Greater(t, id, prev)
		prev = id
	}
}

func TestRunIDCarriesTime(t *testing.T) {
	at := time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)
	id, err := ulid.Parse(NewRunID(at))
	require.NoError(t, err)
	assert.Equal(t, at, ulid.Time(id.Time()).UTC())
	assert.Len(t, id.String(), 26)
}
