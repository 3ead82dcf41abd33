package models

// Money is an amount in minor currency units (kobo, cents). Never a float.
type Money int64
