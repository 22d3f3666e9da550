// Package protocol groups the SATP wire contract.
//
// Ownership boundary:
// - schema: generic fixed-width field codec
// - satp: the SATP segment, its gopacket layer and binding rule
package protocol
