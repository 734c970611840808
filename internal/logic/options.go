package logic

type options struct {
	clock   Clock
	emitter Emitter
	journal Journal
}

// Option 账本可选项
type Option func(*options)

// WithClock 指定账本时钟
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithEmitter 指定审计记录接收方
func WithEmitter(e Emitter) Option {
	return func(o *options) {
		if e != nil {
			o.emitter = e
		}
	}
}

// WithJournal 指定账本记录的持久化，操作返回前写入
func WithJournal(j Journal) Option {
	return func(o *options) {
		o.journal = j
	}
}

func buildOptions(opts []Option) options {
	o := options{clock: SystemClock{}, emitter: nopEmitter{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func attachProposal(records []Record, p *Proposal) []Record {
	for i := range records {
		records[i].Proposal = p
	}
	return records
}

func attachEscrow(records []Record, e *Escrow) []Record {
	for i := range records {
		records[i].Escrow = e
	}
	return records
}
