package bus

import "github.com/criptocracia/ec-core/util"

// twoDaysJitter returns a random number of seconds in [0, 2 days),
// used to randomize gift wrap timestamps per NIP-59.
func twoDaysJitter() int {
	return util.RandomInt(0, 2*24*60*60)
}
