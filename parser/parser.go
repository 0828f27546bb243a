package parser

import "encoding/json"

// state is the position in the command grammar. Keyword states advance one
// accepted byte at a time so the parser can resume at any split point.
type state int

const (
	opStart state = iota

	opC
	opCo
	opCon
	opConn
	opConne
	opConnec
	opConnect
	connectArg

	opP
	opPi
	opPin
	opPing
	opPo
	opPon
	opPong
	opPu
	opPub
	pubArg
	pubMsg
	pubMsgEnd

	opS
	opSu
	opSub
	subArg

	opU
	opUn
	opUns
	opUnsu
	opUnsub
	unsubArg
)

// Parser is an incremental command parser for one client's byte stream.
// It holds state between Parse calls so a command may arrive split across
// arbitrarily many reads. A Parser is not safe for concurrent use.
type Parser struct {
	state   state
	argBuf  []byte
	msgBuf  []byte
	msgSize int
	args    [][]byte
}

// New creates a Parser positioned at the start of a command
func New() *Parser {
	return &Parser{state: opStart}
}

// Parse consumes bytes from buf until a command completes, the grammar is
// violated, or buf runs out.
//
// On a completed command it returns the command, the index of the byte
// that completed it, and a nil error; the caller resumes parsing at
// consumed+1. On a grammar violation it returns the index of the offending
// byte and ErrInvalidInput or ErrNotAPositiveInt. Both outcomes reset the
// parser. If buf runs out mid-command the return is a Noop command with
// consumed == len(buf), and the parser state is kept for the next call.
func (p *Parser) Parse(buf []byte) (Command, int, error) {
	for i, b := range buf {
		switch p.state {
		case opStart:
			switch b {
			case 'C', 'c':
				p.state = opC
			case 'P', 'p':
				p.state = opP
			case 'S', 's':
				p.state = opS
			case 'U', 'u':
				p.state = opU
			case '\r', '\n':
				// stray line terminator between commands
			default:
				return p.fail(i, ErrInvalidInput)
			}

		case opC:
			if b != 'O' && b != 'o' {
				return p.fail(i, ErrInvalidInput)
			}
			p.state = opCo
		case opCo:
			if b != 'N' && b != 'n' {
				return p.fail(i, ErrInvalidInput)
			}
			p.state = opCon
		case opCon:
			if b != 'N' && b != 'n' {
				return p.fail(i, ErrInvalidInput)
			}
			p.state = opConn
		case opConn:
			if b != 'E' && b != 'e' {
				return p.fail(i, ErrInvalidInput)
			}
			p.state = opConne
		case opConne:
			if b != 'C' && b != 'c' {
				return p.fail(i, ErrInvalidInput)
			}
			p.state = opConnec
		case opConnec:
			if b != 'T' && b != 't' {
				return p.fail(i, ErrInvalidInput)
			}
			p.state = opConnect
		case opConnect:
			if b != ' ' && b != '\t' {
				return p.fail(i, ErrInvalidInput)
			}
			p.state = connectArg

		case connectArg:
			switch b {
			case '\n':
				var opts ConnectOptions
				if err := json.Unmarshal(p.argBuf, &opts); err != nil {
					return p.fail(i, ErrInvalidInput)
				}
				return p.done(i, Command{Op: Connect, Opts: opts})
			case '\r':
				// ignore
			default:
				p.argBuf = append(p.argBuf, b)
			}

		case opP:
			switch b {
			case 'I', 'i':
				p.state = opPi
			case 'O', 'o':
				p.state = opPo
			case 'U', 'u':
				p.state = opPu
			default:
				return p.fail(i, ErrInvalidInput)
			}
		case opPi:
			if b != 'N' && b != 'n' {
				return p.fail(i, ErrInvalidInput)
			}
			p.state = opPin
		case opPin:
			if b != 'G' && b != 'g' {
				return p.fail(i, ErrInvalidInput)
			}
			p.state = opPing
		case opPing:
			switch b {
			case '\n':
				return p.done(i, Command{Op: Ping})
			case '\r':
				// ignore
			default:
				return p.fail(i, ErrInvalidInput)
			}

		case opPo:
			if b != 'N' && b != 'n' {
				return p.fail(i, ErrInvalidInput)
			}
			p.state = opPon
		case opPon:
			if b != 'G' && b != 'g' {
				return p.fail(i, ErrInvalidInput)
			}
			p.state = opPong
		case opPong:
			switch b {
			case '\n':
				return p.done(i, Command{Op: Pong})
			case '\r':
				// ignore
			default:
				return p.fail(i, ErrInvalidInput)
			}

		case opPu:
			if b != 'B' && b != 'b' {
				return p.fail(i, ErrInvalidInput)
			}
			p.state = opPub
		case opPub:
			if b != ' ' && b != '\t' {
				return p.fail(i, ErrInvalidInput)
			}
			p.state = pubArg

		case pubArg:
			switch b {
			case '\n':
				args := splitArgs(p.argBuf)
				if len(args) != 2 {
					return p.fail(i, ErrInvalidInput)
				}
				size, err := parseUint(args[1])
				if err != nil {
					return p.fail(i, err)
				}
				p.args = args
				p.msgSize = size
				p.state = pubMsg
			case '\r':
				// ignore
			default:
				p.argBuf = append(p.argBuf, b)
			}

		case pubMsg:
			// payload bytes are taken verbatim, embedded '\n' included;
			// only '\r' terminates
			if b == '\r' {
				if len(p.msgBuf) != p.msgSize {
					return p.fail(i, ErrInvalidInput)
				}
				p.state = pubMsgEnd
				continue
			}
			if len(p.msgBuf) >= p.msgSize {
				return p.fail(i, ErrInvalidInput)
			}
			p.msgBuf = append(p.msgBuf, b)

		case pubMsgEnd:
			if b != '\n' {
				return p.fail(i, ErrInvalidInput)
			}
			msg := make([]byte, len(p.msgBuf))
			copy(msg, p.msgBuf)
			return p.done(i, Command{
				Op:      Pub,
				Subject: string(p.args[0]),
				Msg:     msg,
			})

		case opS:
			if b != 'U' && b != 'u' {
				return p.fail(i, ErrInvalidInput)
			}
			p.state = opSu
		case opSu:
			if b != 'B' && b != 'b' {
				return p.fail(i, ErrInvalidInput)
			}
			p.state = opSub
		case opSub:
			if b != ' ' && b != '\t' {
				return p.fail(i, ErrInvalidInput)
			}
			p.state = subArg

		case subArg:
			switch b {
			case '\n':
				args := splitArgs(p.argBuf)
				if len(args) != 2 {
					return p.fail(i, ErrInvalidInput)
				}
				return p.done(i, Command{
					Op:      Sub,
					Subject: string(args[0]),
					ID:      string(args[1]),
				})
			case '\r':
				// ignore
			default:
				p.argBuf = append(p.argBuf, b)
			}

		case opU:
			if b != 'N' && b != 'n' {
				return p.fail(i, ErrInvalidInput)
			}
			p.state = opUn
		case opUn:
			if b != 'S' && b != 's' {
				return p.fail(i, ErrInvalidInput)
			}
			p.state = opUns
		case opUns:
			if b != 'U' && b != 'u' {
				return p.fail(i, ErrInvalidInput)
			}
			p.state = opUnsu
		case opUnsu:
			if b != 'B' && b != 'b' {
				return p.fail(i, ErrInvalidInput)
			}
			p.state = opUnsub
		case opUnsub:
			if b != ' ' && b != '\t' {
				return p.fail(i, ErrInvalidInput)
			}
			p.state = unsubArg

		case unsubArg:
			switch b {
			case '\n':
				args := splitArgs(p.argBuf)
				if len(args) != 1 {
					return p.fail(i, ErrInvalidInput)
				}
				return p.done(i, Command{Op: Unsub, ID: string(args[0])})
			case '\r':
				// ignore
			default:
				p.argBuf = append(p.argBuf, b)
			}

		default:
			return p.fail(i, ErrInvalidInput)
		}
	}

	return Command{Op: Noop}, len(buf), nil
}

// reset returns the parser to the start-of-command position. The argument
// and payload buffers keep their capacity.
func (p *Parser) reset() {
	p.state = opStart
	p.argBuf = p.argBuf[:0]
	p.msgBuf = p.msgBuf[:0]
	p.msgSize = 0
	p.args = nil
}

func (p *Parser) done(i int, cmd Command) (Command, int, error) {
	p.reset()
	return cmd, i, nil
}

func (p *Parser) fail(i int, err error) (Command, int, error) {
	p.reset()
	return Command{}, i, err
}

// splitArgs splits buf into tokens separated by runs of spaces and tabs
func splitArgs(buf []byte) [][]byte {
	var args [][]byte
	start := -1
	for i, b := range buf {
		switch b {
		case ' ', '\t':
			if start >= 0 {
				args = append(args, buf[start:i])
				start = -1
			}
		default:
			if start < 0 {
				start = i
			}
		}
	}
	if start >= 0 {
		args = append(args, buf[start:])
	}
	return args
}

// parseUint parses a non-negative decimal integer; no sign, no leading '+'
func parseUint(tok []byte) (int, error) {
	n := 0
	for _, b := range tok {
		if b < '0' || b > '9' {
			return 0, ErrNotAPositiveInt
		}
		n = n*10 + int(b-'0')
	}
	return n, nil
}
