package truecrypt

import (
	"fmt"
	"strings"
)

// Suite identifies a single cipher or a cascade of ciphers.
type Suite int

const (
	SuiteAes Suite = iota
	SuiteSerpent
	SuiteTwofish
	SuiteAesTwofish
	SuiteAesTwofishSerpent
	SuiteSerpentAes
	SuiteSerpentTwofishAes
	SuiteTwofishSerpent
)

var (
	// suiteCiphers lists each suite's ciphers in the order that they are
	// applied when encrypting (innermost first). Key material is laid out in
	// the same order. Suite names list the outermost cipher first.
	suiteCiphers = map[Suite][]CipherId{
		SuiteAes:               {CipherAes},
		SuiteSerpent:           {CipherSerpent},
		SuiteTwofish:           {CipherTwofish},
		SuiteAesTwofish:        {CipherTwofish, CipherAes},
		SuiteAesTwofishSerpent: {CipherSerpent, CipherTwofish, CipherAes},
		SuiteSerpentAes:        {CipherAes, CipherSerpent},
		SuiteSerpentTwofishAes: {CipherAes, CipherTwofish, CipherSerpent},
		SuiteTwofishSerpent:    {CipherSerpent, CipherTwofish},
	}

	// AllSuites is every supported suite, in the order that they're tried.
	AllSuites = []Suite{
		SuiteAes,
		SuiteSerpent,
		SuiteTwofish,
		SuiteAesTwofish,
		SuiteAesTwofishSerpent,
		SuiteSerpentAes,
		SuiteSerpentTwofishAes,
		SuiteTwofishSerpent,
	}
)

// Ciphers returns the ciphers of the suite, innermost first.
func (s Suite) Ciphers() []CipherId {
	return suiteCiphers[s]
}

// KeySize is the number of key bytes the suite consumes: a data key and a
// tweak key for every cipher.
func (s Suite) KeySize() int {
	return len(suiteCiphers[s]) * cipherKeySize * 2
}

// String returns the conventional name of the suite (outermost cipher first).
func (s Suite) String() string {
	ciphers, found := suiteCiphers[s]
	if found == false {
		return fmt.Sprintf("Suite<%d>", int(s))
	}

	names := make([]string, len(ciphers))
	for i, ci := range ciphers {
		names[len(ciphers)-1-i] = ci.String()
	}

	return strings.Join(names, "-")
}

// ParseSuite finds a suite by its conventional name (case-insensitive).
func ParseSuite(name string) (s Suite, found bool) {
	for _, s := range AllSuites {
		if strings.EqualFold(s.String(), name) == true {
			return s, true
		}
	}

	return 0, false
}
