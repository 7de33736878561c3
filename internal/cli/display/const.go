// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package display

const (
	Tool       = "resam"
	BannerBlue = `
 o0oo0oo    oooooo     ooo0oo     oo000oo   oo0o0oo0o
 oo    0o  0o    o0o  0o          o0    o0  oo  oo  o0
 oo    oo  oo     o0   0ooo0o    oo     o0  oo  oo  oo
 0o0o0oo   0oo0o0o0        o0o   oo0o0o0o0  oo  oo  oo
 oo  0o    oo          0    oo   oo     oo  oo  oo  oo
 oo   0oo   0oo0o0o0   o0o0o0    o0     oo  oo  oo  oo
`
	BannerGold = `

  oo0o
 0o  o0
 oo
 o0o0o0
 oo
 oo       vversion
`
	DocRoot = "https://docs.resam.io/en/latest"
)
