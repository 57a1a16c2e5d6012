// Package jambonz holds the wire types exchanged with a Jambonz platform:
// webhook verbs, WebSocket commands and the callback payloads it posts.
package jambonz

import (
	"encoding/json"
	"fmt"
)

// MixType values accepted by the listen verb.
const (
	MixMono   = "mono"
	MixStereo = "stereo"
	MixMixed  = "mixed"
)

// DefaultSampleRate is the L16 sample rate used for listen streams.
const DefaultSampleRate = 16000

// Verb is a single Jambonz application instruction.
type Verb interface {
	VerbName() string
}

// BidirectionalAudio controls whether audio written to the listen socket is
// played back to the caller.
type BidirectionalAudio struct {
	Enabled    bool `json:"enabled"`
	Streaming  bool `json:"streaming"`
	SampleRate int  `json:"sampleRate"`
}

// Listen instructs the platform to open an audio WebSocket to URL.
type Listen struct {
	URL                string              `json:"url"`
	MixType            string              `json:"mixType,omitempty"`
	ActionHook         string              `json:"actionHook,omitempty"`
	SampleRate         int                 `json:"sampleRate,omitempty"`
	BidirectionalAudio *BidirectionalAudio `json:"bidirectionalAudio,omitempty"`
}

// VerbName implements Verb.
func (Listen) VerbName() string { return "listen" }

// Target is a dial destination.
type Target struct {
	Type   string `json:"type"`
	Number string `json:"number,omitempty"`
}

// PhoneTarget returns a PSTN dial target for number.
func PhoneTarget(number string) Target {
	return Target{Type: "phone", Number: number}
}

// Dial bridges the call to one or more targets. Verb is carried inline because
// dial appears inside command payloads, which use the "verb" property form.
type Dial struct {
	Verb           string   `json:"verb"`
	AnswerOnBridge bool     `json:"answerOnBridge"`
	Target         []Target `json:"target"`
}

// VerbName implements Verb.
func (Dial) VerbName() string { return "dial" }

// NewDial returns a dial verb bridging to targets.
func NewDial(answerOnBridge bool, targets ...Target) Dial {
	return Dial{Verb: "dial", AnswerOnBridge: answerOnBridge, Target: targets}
}

// WebhookResponse is an ordered list of verbs returned from a webhook.
// It encodes as a JSON array of single-key objects, e.g. [{"listen":{...}}].
// An empty response encodes as [].
type WebhookResponse struct {
	verbs []Verb
}

// Listen appends a listen verb.
func (r *WebhookResponse) Listen(l Listen) *WebhookResponse {
	r.verbs = append(r.verbs, l)
	return r
}

// Add appends an arbitrary verb.
func (r *WebhookResponse) Add(v Verb) *WebhookResponse {
	r.verbs = append(r.verbs, v)
	return r
}

// Verbs returns the verbs in order.
func (r *WebhookResponse) Verbs() []Verb {
	return r.verbs
}

// Len returns the number of verbs.
func (r *WebhookResponse) Len() int {
	return len(r.verbs)
}

// MarshalJSON implements json.Marshaler.
func (r WebhookResponse) MarshalJSON() ([]byte, error) {
	out := make([]map[string]Verb, 0, len(r.verbs))
	for _, v := range r.verbs {
		if v == nil {
			return nil, fmt.Errorf("nil verb in webhook response")
		}
		out = append(out, map[string]Verb{v.VerbName(): v})
	}
	return json.Marshal(out)
}
