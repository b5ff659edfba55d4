// Package banknode runs the local side of the banknode registration and
// liveness protocol.
//
// A Controller is ticked on a fixed cadence. While the node is not yet
// capable each tick re-evaluates, from scratch, whether it has a reachable
// address, an unlocked wallet and a mature collateral output of the amount
// required at the current height. The first tick that finds all of them
// holds the collateral, announces the node with a message signed by the
// collateral key and inserts it into the directory. Later ticks only send
// pings signed by the operator key. There is no separate retry machinery:
// re-running a tick is the retry, so announcing an already known outpoint
// and pinging an already current entry are both harmless.
//
// The state machine itself is the pure function Next; the Controller only
// gathers its inputs and performs the action it returns.
package banknode
