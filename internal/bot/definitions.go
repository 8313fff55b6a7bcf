package bot

import "github.com/bwmarrin/discordgo"

func GetCommands() []*discordgo.ApplicationCommand {
	minIndex := 1.0
	return []*discordgo.ApplicationCommand{
		{
			Name:         "start",
			Description:  "Show how the anonymous chat works",
			DMPermission: boolPtr(true),
		},
		{
			Name:         "sessions",
			Description:  "List your active chats",
			DMPermission: boolPtr(true),
		},
		{
			Name:         "switch",
			Description:  "Switch to a chat from the /sessions list",
			DMPermission: boolPtr(true),
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "index",
					Description: "Chat number in the list",
					Required:    true,
					MinValue:    &minIndex,
				},
			},
		},
		{
			Name:         "pay",
			Description:  "Confirm payment for the current chat",
			DMPermission: boolPtr(true),
		},
		{
			Name:         "confirm_completion",
			Description:  "Confirm the order is complete",
			DMPermission: boolPtr(true),
		},
		{
			Name:         "status",
			Description:  "Show the status of the current chat",
			DMPermission: boolPtr(true),
		},
		{
			Name:         "close_chat",
			Description:  "Propose closing the current chat",
			DMPermission: boolPtr(true),
		},
		{
			Name:         "approve_close",
			Description:  "Approve closing the current chat",
			DMPermission: boolPtr(true),
		},
	}
}

func boolPtr(b bool) *bool {
	return &b
}
