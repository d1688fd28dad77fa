// Package paramtree implements the typed parameter tree that every adapter
// exposes through the API.
//
// A tree is built once from three node kinds:
//
//   - *Leaf holds one typed value (bool, int, float, str, bytes, or a
//     fixed-length array of one of these), either stored in the leaf or
//     proxied through a Getter/Setter pair.
//   - *Mapping holds named children in construction order.
//   - *Sequence holds children addressed by integer index.
//
// # Addressing
//
// Paths are slash-delimited. A mapping consumes a key, a sequence consumes
// a decimal index, and a leaf must be the last segment. The segment "*"
// fans out over every child of a branch on reads.
//
// # Reads
//
// Get returns a deep copy rendered as Object (an ordered map), []any and
// wire values, safe to serialise after the call returns:
//
//	tree := paramtree.New(paramtree.Map(
//	    paramtree.Field("x", paramtree.Map(
//	        paramtree.Field("y", paramtree.Value(paramtree.Int, 5)),
//	    )),
//	))
//	v, _ := tree.Get(paramtree.ParsePath("x/y")) // {"y": 5}
//
// # Writes
//
// Writes convert the incoming value to the leaf's canonical type. Integers
// widen to float; nothing else is coerced. A rejected write never modifies
// the leaf. Writes against a branch are best-effort per key and report
// every outcome in a SetReport.
//
// Bytes are carried on the wire as base64 strings.
package paramtree
