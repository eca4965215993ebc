package main

import (
	"fmt"
	"math"
	"time"

	"github.com/BetaCatPro/livelink/pkg/types"
	"github.com/fatih/color"
)

var categoryColors = map[types.Category]*color.Color{
	types.CategoryChat:     color.New(color.FgWhite),
	types.CategoryGift:     color.New(color.FgYellow, color.Bold),
	types.CategoryLike:     color.New(color.FgMagenta),
	types.CategoryJoin:     color.New(color.FgCyan),
	types.CategoryFollow:   color.New(color.FgGreen),
	types.CategoryShare:    color.New(color.FgGreen),
	types.CategoryStats:    color.New(color.FgBlue),
	types.CategoryFansclub: color.New(color.FgHiMagenta),
	types.CategoryControl:  color.New(color.FgRed, color.Bold),
}

// describe 一行可读的消息内容
func describe(msg types.Message) string {
	switch msg.Type {
	case types.CategoryChat:
		return fmt.Sprintf("%s: %s", msg.UserName, msg.Content)
	case types.CategoryGift:
		return fmt.Sprintf("%s sent %s x%d", msg.UserName, msg.GiftName, msg.GiftCount)
	case types.CategoryLike:
		return fmt.Sprintf("%s liked x%d (total %d)", msg.UserName, msg.LikeCount, msg.LikeTotal)
	case types.CategoryJoin:
		return fmt.Sprintf("%s joined", msg.UserName)
	case types.CategoryFollow:
		return fmt.Sprintf("%s followed", msg.UserName)
	case types.CategoryShare:
		return fmt.Sprintf("%s shared the room", msg.UserName)
	case types.CategoryStats:
		return fmt.Sprintf("viewers %d, total %s", msg.CurrentViewers, msg.TotalViewers)
	case types.CategoryFansclub:
		return msg.Content
	case types.CategoryControl:
		return "live " + msg.Status
	default:
		return msg.Content
	}
}

// formatMessage 终端输出格式：时间 [房间] 类别 内容
func formatMessage(msg types.Message) string {
	ts := time.UnixMilli(int64(math.Round(msg.Timestamp * 1000))).Format("15:04:05")
	label := fmt.Sprintf("%-8s", msg.Type)
	if c, ok := categoryColors[msg.Type]; ok {
		label = c.Sprint(label)
	}
	return fmt.Sprintf("%s [%s] %s %s", ts, msg.RoomID, label, describe(msg))
}
