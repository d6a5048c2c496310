// Package control implements the daemon's command channel: numeric command
// codes arrive over a unix domain socket and are decoded into engine
// operations.
package control

import "fmt"

// Op identifies a decoded command.
type Op int

const (
	OpUnknown Op = iota
	OpHelp
	OpQueryTime
	OpAddTime
	OpRemoveTime
	OpEnableDebug
	OpDisableDebug
	OpChangeSession
	OpSendEmail
)

// Fixed command codes. Values 200-203 predate the rest and stay stable.
const (
	CodeHelp          = 100
	CodeQueryTime     = 200
	CodeAddTime       = 201
	CodeRemoveTime    = 202
	CodeSendEmail     = 203
	CodeEnableDebug   = 204
	CodeDisableDebug  = 205
	CodeChangeSession = 206
)

// Encoded bonus deltas live below CodeHelp: code = op*10 + minutes/5, where
// op 1 adds and op 2 removes. Minutes are therefore 0-45 in steps of 5.
const (
	encodedAddLow     = 10
	encodedAddHigh    = 19
	encodedRemoveLow  = 20
	encodedRemoveHigh = 29

	// defaultDeltaMinutes is the bonus change for the fixed
	// CodeAddTime/CodeRemoveTime commands.
	defaultDeltaMinutes = 10
)

// Command is a decoded control command. Minutes is only meaningful for
// OpAddTime and OpRemoveTime.
type Command struct {
	Op      Op
	Minutes int
}

// Decode maps a raw code to a Command. Unrecognized codes return an error
// and a Command with OpUnknown; callers log and make no state change.
func Decode(code int) (Command, error) {
	switch code {
	case CodeHelp:
		return Command{Op: OpHelp}, nil
	case CodeQueryTime:
		return Command{Op: OpQueryTime}, nil
	case CodeAddTime:
		return Command{Op: OpAddTime, Minutes: defaultDeltaMinutes}, nil
	case CodeRemoveTime:
		return Command{Op: OpRemoveTime, Minutes: defaultDeltaMinutes}, nil
	case CodeSendEmail:
		return Command{Op: OpSendEmail}, nil
	case CodeEnableDebug:
		return Command{Op: OpEnableDebug}, nil
	case CodeDisableDebug:
		return Command{Op: OpDisableDebug}, nil
	case CodeChangeSession:
		return Command{Op: OpChangeSession}, nil
	}

	switch {
	case code >= encodedAddLow && code <= encodedAddHigh:
		return Command{Op: OpAddTime, Minutes: (code - encodedAddLow) * 5}, nil
	case code >= encodedRemoveLow && code <= encodedRemoveHigh:
		return Command{Op: OpRemoveTime, Minutes: (code - encodedRemoveLow) * 5}, nil
	}

	return Command{}, fmt.Errorf("unrecognized command code %d", code)
}

// HelpText lists every command and its code, for the Help reply.
func HelpText() string {
	return fmt.Sprintf(`Commands:
  %d  help
  %d  query today's usage
  %d  add %d bonus minutes
  %d  remove %d bonus minutes
  %d  send email notification
  %d  enable debug logging
  %d  disable debug logging
  %d  cycle notification session
  %d-%d  add (code-%d)*5 bonus minutes
  %d-%d  remove (code-%d)*5 bonus minutes
`,
		CodeHelp,
		CodeQueryTime,
		CodeAddTime, defaultDeltaMinutes,
		CodeRemoveTime, defaultDeltaMinutes,
		CodeSendEmail,
		CodeEnableDebug,
		CodeDisableDebug,
		CodeChangeSession,
		encodedAddLow, encodedAddHigh, encodedAddLow,
		encodedRemoveLow, encodedRemoveHigh, encodedRemoveLow)
}
