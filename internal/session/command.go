package session

import (
	"strings"

	"shardfs/pkg/fserrors"
)

type Verb string

const (
	VerbStore     Verb = "store"
	VerbFetch     Verb = "fetch"
	VerbDelete    Verb = "delete"
	VerbArchive   Verb = "archive"
	VerbList      Verb = "list"
	VerbTerminate Verb = "terminate"
)

// старые имена команд клиента
var aliases = map[string]Verb{
	"uploadf":    VerbStore,
	"downlf":     VerbFetch,
	"removef":    VerbDelete,
	"downltar":   VerbArchive,
	"dispfnames": VerbList,
	"exit":       VerbTerminate,
}

var usage = map[Verb]string{
	VerbStore:     "store <filename> <destination_path>",
	VerbFetch:     "fetch <filepath>",
	VerbDelete:    "delete <filepath>",
	VerbArchive:   "archive <filetype>",
	VerbList:      "list <pathname>",
	VerbTerminate: "terminate",
}

var arity = map[Verb]int{
	VerbStore:     2,
	VerbFetch:     1,
	VerbDelete:    1,
	VerbArchive:   1,
	VerbList:      1,
	VerbTerminate: 0,
}

// Command is one parsed client command line.
type Command struct {
	Verb Verb
	Args []string
}

// LookupVerb resolves a verb or one of its aliases.
func LookupVerb(word string) (Verb, bool) {
	if v, ok := aliases[word]; ok {
		return v, true
	}
	v := Verb(word)
	_, ok := arity[v]
	return v, ok
}

// Arity is the exact number of arguments a verb takes.
func Arity(v Verb) int {
	return arity[v]
}

// Usage is the one-line usage text of a verb.
func Usage(v Verb) string {
	return "Usage: " + usage[v]
}

// ParseCommand splits a line on whitespace and checks the verb and its
// exact arity. A blank line parses to the zero Command.
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, nil
	}
	verb, ok := LookupVerb(fields[0])
	if !ok {
		return Command{}, fserrors.Fail(fserrors.KindUnknownCommand, "Unknown command")
	}
	args := fields[1:]
	if len(args) != arity[verb] {
		return Command{}, fserrors.Fail(fserrors.KindUsage, "%s", Usage(verb))
	}
	return Command{Verb: verb, Args: args}, nil
}

func (c Command) String() string {
	return strings.Join(append([]string{string(c.Verb)}, c.Args...), " ")
}
