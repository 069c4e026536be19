package base

// MaxKeySize bounds a single user key.
const MaxKeySize = 64 << 10

// MaxValueSize bounds a single value.
const MaxValueSize = 4 << 20
