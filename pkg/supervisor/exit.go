package supervisor

import "os"

// exitProcess is a var so tests can stub process termination out of Fatal.
var exitProcess = os.Exit
