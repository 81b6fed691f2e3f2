package chat

import "errors"

var (
	// ErrAlreadyPaired is returned by Find when the caller is in a chat.
	ErrAlreadyPaired = errors.New("already in a chat")

	// ErrNotConnected is returned by Deliver when the sender has no partner.
	ErrNotConnected = errors.New("not connected to a partner")

	// ErrNotInChat is returned by End when the caller is not paired.
	ErrNotInChat = errors.New("not in a chat")

	// ErrPartnerUnreachable is returned by Deliver after a failed delivery
	// tore the pairing down on both sides.
	ErrPartnerUnreachable = errors.New("partner unreachable")

	// ErrUnreachable is returned by a Sender when the recipient cannot be
	// reached. The relay translates it into ErrPartnerUnreachable.
	ErrUnreachable = errors.New("recipient unreachable")
)
