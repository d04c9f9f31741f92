package main

import (
	"context"
	"fmt"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func main() {
	mr, err := miniredis.Run()
	if err != nil {
		panic(err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	fmt.Println("ping:", client.Ping(ctx).Err())
	fmt.Println("set:", client.Set(ctx, "foo", "bar", time.Minute).Err())
	fmt.Println("get:", client.Get(ctx, "foo").Val())
	fmt.Println("getdel:", client.GetDel(ctx, "foo").Val(), client.GetDel(ctx, "foo").Err())
}
