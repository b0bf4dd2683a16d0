package opt

import (
	"bufio"
	"io"
	"strconv"
)

// Column and row names are index based since facility and demand ids are
// opaque and may hold characters the LP format rejects.
func xName(j int) string { return "x" + strconv.Itoa(j) }
func yName(i int) string { return "y" + strconv.Itoa(i) }

const termsPerLine = 8

// WriteLP writes p in CPLEX LP format. The objective names every column,
// facilities first, so solvers number columns x0..xn-1 then y0..ym-1.
func WriteLP(w io.Writer, p *Problem) error {
	bw := bufio.NewWriter(w)
	lw := &lineWriter{w: bw}

	lw.raw("\\ Maximal covering location problem\n")
	lw.raw("\\ facilities " + strconv.Itoa(len(p.Facilities)) + ", demand units " + strconv.Itoa(len(p.Demands)) + "\n")
	lw.raw("Maximize\n obj:")
	for j := range p.Facilities {
		lw.term(0, xName(j))
	}
	for i := range p.Demands {
		lw.term(p.Weights[i], yName(i))
	}
	lw.end()

	lw.raw("Subject To\n")
	for i := range p.Demands {
		lw.raw(" D" + strconv.Itoa(i) + ":")
		for _, j := range p.Covers[i] {
			lw.term(1, xName(j))
		}
		lw.term(-1, yName(i))
		lw.raw(" >= 0")
		lw.end()
	}
	lw.raw(" total:")
	for j := range p.Facilities {
		lw.term(1, xName(j))
	}
	lw.raw(" <= " + strconv.Itoa(p.P))
	lw.end()

	lw.raw("Binaries\n")
	for j := range p.Facilities {
		lw.name(xName(j))
	}
	for i := range p.Demands {
		lw.name(yName(i))
	}
	lw.end()
	lw.raw("End\n")
	if lw.err != nil {
		return lw.err
	}
	return bw.Flush()
}

// lineWriter wraps long expressions across lines and keeps the first error.
type lineWriter struct {
	w   *bufio.Writer
	n   int
	err error
}

func (l *lineWriter) raw(s string) {
	if l.err == nil {
		_, l.err = l.w.WriteString(s)
	}
}

func (l *lineWriter) wrap() {
	if l.n > 0 && l.n%termsPerLine == 0 {
		l.raw("\n   ")
	}
	l.n++
}

func (l *lineWriter) term(coef float64, name string) {
	l.wrap()
	sign := " + "
	if coef < 0 {
		sign = " - "
		coef = -coef
	}
	l.raw(sign + strconv.FormatFloat(coef, 'g', -1, 64) + " " + name)
}

func (l *lineWriter) name(s string) {
	l.wrap()
	l.raw(" " + s)
}

func (l *lineWriter) end() {
	l.raw("\n")
	l.n = 0
}
