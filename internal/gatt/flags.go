package gatt

import "fmt"

// Flag is a characteristic access mode as named by BlueZ.
type Flag string

const (
	FlagBroadcast                 Flag = "broadcast"
	FlagRead                      Flag = "read"
	FlagWriteWithoutResponse      Flag = "write-without-response"
	FlagWrite                     Flag = "write"
	FlagNotify                    Flag = "notify"
	FlagIndicate                  Flag = "indicate"
	FlagAuthenticatedSignedWrites Flag = "authenticated-signed-writes"
	FlagReliableWrite             Flag = "reliable-write"
	FlagWritableAuxiliaries       Flag = "writable-auxiliaries"
	FlagEncryptRead               Flag = "encrypt-read"
	FlagEncryptWrite              Flag = "encrypt-write"
	FlagEncryptAuthenticatedRead  Flag = "encrypt-authenticated-read"
	FlagEncryptAuthenticatedWrite Flag = "encrypt-authenticated-write"
)

var knownFlags = map[Flag]struct{}{
	FlagBroadcast:                 {},
	FlagRead:                      {},
	FlagWriteWithoutResponse:      {},
	FlagWrite:                     {},
	FlagNotify:                    {},
	FlagIndicate:                  {},
	FlagAuthenticatedSignedWrites: {},
	FlagReliableWrite:             {},
	FlagWritableAuxiliaries:       {},
	FlagEncryptRead:               {},
	FlagEncryptWrite:              {},
	FlagEncryptAuthenticatedRead:  {},
	FlagEncryptAuthenticatedWrite: {},
}

// Flags is an ordered set of access modes.
type Flags []Flag

// ParseFlags validates names and collapses duplicates, keeping first-seen order.
func ParseFlags(names ...string) (Flags, error) {
	out := make(Flags, 0, len(names))
	seen := make(map[Flag]struct{}, len(names))
	for _, n := range names {
		f := Flag(n)
		if _, ok := knownFlags[f]; !ok {
			return nil, fmt.Errorf("unknown characteristic flag %q", n)
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out, nil
}

// Has reports whether f is in the set.
func (fs Flags) Has(f Flag) bool {
	for _, x := range fs {
		if x == f {
			return true
		}
	}
	return false
}

// CanWrite reports whether any write mode is present.
func (fs Flags) CanWrite() bool {
	return fs.Has(FlagWrite) || fs.Has(FlagWriteWithoutResponse) || fs.Has(FlagReliableWrite) ||
		fs.Has(FlagAuthenticatedSignedWrites) || fs.Has(FlagEncryptWrite) || fs.Has(FlagEncryptAuthenticatedWrite)
}

// CanNotify reports whether notify or indicate is present.
func (fs Flags) CanNotify() bool {
	return fs.Has(FlagNotify) || fs.Has(FlagIndicate)
}

// Strings returns the flag names in order.
func (fs Flags) Strings() []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = string(f)
	}
	return out
}
