package id

import gonanoid "github.com/matoous/go-nanoid/v2"

// alphabet keeps ids lowercase and free of the ':' that separates a tool's
// source from its name.
const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

const size = 21

var generate = gonanoid.Generate

// Generator issues prefixed random ids: srv_ for servers, msg_ for
// executions and rule_ for conflict rules.
type Generator struct{}

func New() *Generator {
	return &Generator{}
}

func (g *Generator) next(prefix string) string {
	s, err := generate(alphabet, size)
	if err != nil {
		panic("nanoid generation failed: " + err.Error())
	}
	return prefix + "_" + s
}

func (g *Generator) GenerateServerID() string  { return g.next("srv") }
func (g *Generator) GenerateMessageID() string { return g.next("msg") }
func (g *Generator) GenerateRuleID() string    { return g.next("rule") }
