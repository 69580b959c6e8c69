// Package chat turns Twitch chat commands into overlay messages.
//
// A Router parses lines such as "!seq wave" into a Command, checks that the
// command is enabled and allowed for the sender, enforces its per-user and
// global cooldowns, and hands the built overlay.Message to a handler (normally
// overlay.Client.Handle). Cooldowns start only after the handler accepted the
// message. Moderators and the broadcaster bypass cooldowns.
//
// A Listener connects the Router to a channel through go-twitch-irc. It needs a
// bot username and an OAuth token with chat:read and chat:edit scopes, and
// answers in chat when a command fails for a reason the sender can fix.
package chat
