// The static description of a unit of cacheable work.

package core

// An Input is one declared input of a pip, identified by content rather than
// by path so fingerprints do not vary across checkouts.
type Input struct {
	Name string      `json:"name"`
	Hash ContentHash `json:"hash"`
}

// A Pip is one schedulable, cacheable unit of work: a process invocation with
// declared inputs and outputs. Everything here is static, i.e. known before
// the pip runs; the dynamically observed paths arrive separately as an
// ObservedPathSet after execution.
type Pip struct {
	// Label names the pip stably across builds of the same graph, e.g.
	// "//src/core:core#compile". It does not participate in fingerprints but
	// is the identity used for artificial miss injection.
	Label string `json:"label"`
	// Command is the command line the pip runs.
	Command string `json:"command"`
	// Inputs are the declared inputs, by content hash.
	Inputs []Input `json:"inputs"`
	// Outputs are the declared output names, in declaration order. A
	// published ContentHashList has one hash per entry here.
	Outputs []string `json:"outputs"`
	// Env is the environment salt: variables that affect the tool's output.
	Env []string `json:"env,omitempty"`
}

// WeakFingerprint computes the weak fingerprint of this pip under the given
// global salt. It is a pure function of this struct and the salt: same static
// description means same fingerprint, independent of machine or time.
func (p *Pip) WeakFingerprint(salt string) WeakFingerprint {
	w := newHashWriter()
	w.WriteString("command", p.Command)
	w.WriteInt("inputs", len(p.Inputs))
	for _, in := range p.Inputs {
		w.WriteString("input", in.Name)
		w.WriteField("hash", in.Hash[:])
	}
	w.WriteInt("outputs", len(p.Outputs))
	for _, out := range p.Outputs {
		w.WriteString("output", out)
	}
	w.WriteInt("env", len(p.Env))
	for _, e := range p.Env {
		w.WriteString("envvar", e)
	}
	w.WriteString("globalsalt", salt)
	return WeakFingerprint(w.Sum())
}

// SemiStableID returns a digest of the pip's label, used as the stable
// identity for artificial miss injection. It deliberately excludes content
// hashes so the same pip keeps the same id as its inputs change.
func (p *Pip) SemiStableID() ContentHash {
	w := newHashWriter()
	w.WriteString("label", p.Label)
	return w.Sum()
}
