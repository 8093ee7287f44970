package cluster

import "fmt"

// paramKeyString canonicalizes a parameter value for the server-side cell
// map. The type prefix keeps 1 and "1" distinct.
func paramKeyString(v interface{}) string {
	return fmt.Sprintf("%T:%v", v, v)
}
