// Copyright 2026 AX Platform
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectThrottle(t *testing.T) {
	assert.Nil(t, DetectThrottle("a regular reply"))
	assert.Nil(t, DetectThrottle(""))

	th := DetectThrottle("let me #pause for a moment")
	require.NotNil(t, th)
	assert.False(t, th.Done)
	assert.True(t, th.ResumeAt.IsZero())

	th = DetectThrottle("#STOP processing")
	require.NotNil(t, th)
	assert.False(t, th.Done)

	th = DetectThrottle("I think #Done is the answer")
	require.NotNil(t, th)
	assert.True(t, th.Done)
	assert.Contains(t, th.Reason, "Done:")
	assert.WithinDuration(t, time.Now().Add(DoneResumeDelay), th.ResumeAt, 2*time.Second)

	// #done wins when combined with other tokens.
	th = DetectThrottle("#pause then #done")
	require.NotNil(t, th)
	assert.True(t, th.Done)
}

func TestStripSelfMention(t *testing.T) {
	assert.Equal(t, "thanks for the update",
		StripSelfMention("@alice thanks for the update", "alice"))
	assert.Equal(t, "thanks @bob",
		StripSelfMention("thanks @bob @alice", "alice"))
	assert.Equal(t, "no mentions here",
		StripSelfMention("no mentions here", "alice"))
	// A different agent sharing the prefix is untouched.
	assert.Equal(t, "ping @alice_2",
		StripSelfMention("ping @alice_2", "alice"))
	assert.Equal(t, "unchanged", StripSelfMention("unchanged", ""))
}
