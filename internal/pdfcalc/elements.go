package pdfcalc

import "strings"

// symbols lists element symbols in atomic-number order, starting at Z = 1.
var symbols = strings.Fields(`
H He Li Be B C N O F Ne Na Mg Al Si P S Cl Ar K Ca Sc Ti V Cr Mn Fe Co Ni Cu Zn
Ga Ge As Se Br Kr Rb Sr Y Zr Nb Mo Tc Ru Rh Pd Ag Cd In Sn Sb Te I Xe Cs Ba La Ce
Pr Nd Pm Sm Eu Gd Tb Dy Ho Er Tm Yb Lu Hf Ta W Re Os Ir Pt Au Hg Tl Pb Bi Po At Rn
Fr Ra Ac Th Pa U`)

var atomicNumber = func() map[string]int {
	m := make(map[string]int, len(symbols))
	for i, s := range symbols {
		m[s] = i + 1
	}
	return m
}()

// AtomicNumber returns Z for a title-case element symbol, or 0 if unknown.
func AtomicNumber(symbol string) int {
	return atomicNumber[symbol]
}

// ScatteringWeight returns the Q = 0 X-ray scattering weight of an element.
func ScatteringWeight(symbol string) (float64, bool) {
	z, ok := atomicNumber[symbol]
	return float64(z), ok
}
